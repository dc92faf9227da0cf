package llm

import (
	"net/http"
	"time"
)

// newHTTPClient builds the transport a provider SDK uses. timeoutMs bounds
// the whole exchange including the response stream, so a hung provider call
// cannot outlive the model-call budget; zero disables the bound.
func newHTTPClient(timeoutMs int) *http.Client {
	client := &http.Client{}
	if timeoutMs > 0 {
		client.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return client
}
