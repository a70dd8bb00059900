package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Veraticus/the-spice-must-match/internal/common"
)

// httpError maps a non-200 provider response onto a ProviderError.
func httpError(provider string, status int, body []byte) error {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	switch status {
	case http.StatusTooManyRequests:
		return common.NewProviderError(provider, common.ProviderRateLimit,
			fmt.Errorf("%w (status %d): %s", common.ErrRateLimit, status, msg))
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return common.NewProviderError(provider, common.ProviderTimeout,
			fmt.Errorf("status %d: %s", status, msg))
	default:
		return common.NewProviderError(provider, common.ProviderAPI,
			fmt.Errorf("status %d: %s", status, msg))
	}
}

// transportError maps a failed round trip onto a ProviderError.
func transportError(provider string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return common.NewProviderError(provider, common.ProviderTimeout, err)
	}
	return common.NewProviderError(provider, common.ProviderTransport, err)
}

func malformedError(provider string, err error) error {
	return common.NewProviderError(provider, common.ProviderMalformed, err)
}
