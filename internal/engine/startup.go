package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// EnsureReady verifies the backend is reachable, pulls the chat and embedding
// models when they are missing and probes the embedding model once, since
// ingestion cannot work without vectors. Pull progress goes to w.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return errdefs.External("checking inference engine", fmt.Errorf("backend is not reachable; start it or set engine.base_url"))
	}

	for _, model := range uniqueModels(chatModel, embedModel) {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		if err := e.PullModel(ctx, model, pullReporter(w)); err != nil {
			return errdefs.External("pulling model "+model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if embedModel == "" {
		return nil
	}
	vec, err := e.Embed(ctx, embedModel, "tabchat readiness probe")
	if err != nil {
		return errdefs.External("probing embedding model "+embedModel, err)
	}
	if len(vec) == 0 {
		return errdefs.External("probing embedding model "+embedModel, fmt.Errorf("empty embedding"))
	}
	fmt.Fprintf(w, "model %s: %d dimensions\n", embedModel, len(vec))
	return nil
}

func uniqueModels(names ...string) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// pullReporter prints a line whenever the status changes or another tenth
// of the download completes.
func pullReporter(w io.Writer) func(PullProgress) {
	lastStatus, lastDecile := "", int64(-1)
	return func(p PullProgress) {
		decile := int64(-1)
		if p.Total > 0 {
			decile = p.Completed * 10 / p.Total
		}
		if p.Status == lastStatus && decile == lastDecile {
			return
		}
		lastStatus, lastDecile = p.Status, decile
		if decile >= 0 {
			fmt.Fprintf(w, "  %s %d%%\n", p.Status, decile*10)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	}
}
