// Package health checks whether a portal host answers HTTP at all, to
// separate "server down" from "credential rejected" before a search burns
// its attempt budget.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stalkerprobe/stalker-probe/internal/httpclient"
)

// CheckPortal fetches the portal endpoint anonymously. Any HTTP answer,
// including an error status, counts as reachable; portals routinely reject
// bare requests while still serving authenticated ones.
func CheckPortal(ctx context.Context, portalURL string) error {
	if portalURL == "" {
		return fmt.Errorf("no portal URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, portalURL+"/portal.php", nil)
	if err != nil {
		return err
	}
	client := httpclient.WithTimeout(15 * time.Second)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("portal unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
