package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

func CheckConnectivity(ctx context.Context, botToken string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	endpoint := fmt.Sprintf("%s/bot%s/getMe", defaultBaseURL, botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return fmt.Errorf("telegram getMe status %d", res.StatusCode)
	}
	return nil
}

// ParseCommand splits "/export@MyBot 14-17" into ("export", ["14-17"]).
// ok is false for text that is not a bot command.
func ParseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
