package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/pgnstream/cli/render"
	"github.com/justapithecus/pgnstream/fetch"
	"github.com/justapithecus/pgnstream/runtime"
)

// ProbeResponse is the response for the probe command.
type ProbeResponse struct {
	Archive      string    `json:"archive"`
	URL          string    `json:"url"`
	StatusCode   int       `json:"status_code"`
	Size         int64     `json:"size"`
	RangeCapable bool      `json:"range_capable"`
	AcceptRanges bool      `json:"accept_ranges"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	Server       string    `json:"server,omitempty"`
	ProbedAt     time.Time `json:"probed_at"`
}

// ProbeCommand returns the probe command.
// Probe issues a single metadata request and downloads nothing.
func ProbeCommand() *cli.Command {
	return &cli.Command{
		Name:   "probe",
		Usage:  "Show archive metadata (size, type, range support)",
		Flags:  append(archiveFlags(), OutputFlags()...),
		Action: probeAction,
	}
}

func probeAction(c *cli.Context) error {
	if err := rejectTUI(c, "probe"); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	archive, err := resolveArchive(c, cfg)
	if err != nil {
		return usageError("%v", err)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError("%v", err)
	}

	resp, err := probeArchive(c.Context, &http.Client{}, archive, c.Duration("probe-timeout"))
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeResolve)
	}
	return r.Render(resp)
}

func probeArchive(ctx context.Context, client fetch.Doer, archive archiveChoice, timeout time.Duration) (*ProbeResponse, error) {
	res, err := fetch.NewResolver(client, timeout).Resolve(ctx, archive.url)
	if err != nil {
		return nil, err
	}
	return &ProbeResponse{
		Archive:      archive.label,
		URL:          res.URL,
		StatusCode:   res.StatusCode,
		Size:         res.ExpectedSize,
		RangeCapable: res.RangeCapable(),
		AcceptRanges: res.AcceptRanges,
		ContentType:  res.ContentType,
		LastModified: res.LastModified,
		ETag:         res.ETag,
		Server:       res.Server,
		ProbedAt:     res.ProbedAt,
	}, nil
}
