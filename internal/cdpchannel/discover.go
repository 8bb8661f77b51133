package cdpchannel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/chromedp"
)

// PageTarget identifies a debuggable page tab.
type PageTarget struct {
	ID  string
	URL string
}

// DiscoverPageTarget enumerates the browser's targets through a short-lived
// chromedp connection and returns the first page target whose URL contains
// urlFilter (case-insensitive). An empty filter matches any page.
func DiscoverPageTarget(ctx context.Context, cdpURL, urlFilter string) (PageTarget, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cdpURL)
	defer allocCancel()

	tempCtx, tempCancel := chromedp.NewContext(allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return PageTarget{}, fmt.Errorf("cdpchannel: connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return PageTarget{}, fmt.Errorf("cdpchannel: enumerate targets: %w", err)
	}

	filter := strings.ToLower(strings.TrimSpace(urlFilter))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(t.URL), filter) {
			slog.Debug("skipping target (url filter)", "url", t.URL)
			continue
		}
		slog.Info("discovered page target", "target_id", t.TargetID, "url", t.URL)
		return PageTarget{ID: string(t.TargetID), URL: t.URL}, nil
	}
	return PageTarget{}, fmt.Errorf("cdpchannel: no page target matching %q among %d targets", urlFilter, len(targets))
}
