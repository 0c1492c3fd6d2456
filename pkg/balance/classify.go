package balance

import "encoding/json"

// View selects which balance semantics a request receives.
type View int

const (
	// ViewSpoof substitutes the fixed placeholder balance.
	ViewSpoof View = iota
	// ViewReal forwards the upstream-reported value untouched.
	ViewReal
)

// HeaderName is the request header that overrides spoofing per request.
const HeaderName = "x-balance-type"

// spoofMethods is the allow-list of methods whose responses are spoofed
// so wallet UIs never display insufficient funds.
var spoofMethods = map[string]bool{
	"eth_getBalance":            true,
	"eth_accounts":              true,
	"eth_requestAccounts":       true,
	"wallet_getPermissions":     true,
	"wallet_requestPermissions": true,
	"eth_getAccountSnapshot":    true,
	"eth_unsubscribe":           true,
}

// ShouldSpoof reports whether the method falls on the spoofed path.
// eth_subscribe qualifies only for newHeads subscriptions, which is what
// wallets use to trigger balance refreshes.
func ShouldSpoof(method string, params json.RawMessage) bool {
	if spoofMethods[method] {
		return true
	}
	if method != "eth_subscribe" {
		return false
	}
	var positional []json.RawMessage
	if err := json.Unmarshal(params, &positional); err != nil || len(positional) == 0 {
		return false
	}
	var kind string
	if err := json.Unmarshal(positional[0], &kind); err != nil {
		return false
	}
	return kind == "newHeads"
}

// Classify maps a method plus the override header value to a view.
// The override header forces the real value through untouched.
func Classify(method string, params json.RawMessage, headerValue string) View {
	if headerValue == "real" {
		return ViewReal
	}
	if ShouldSpoof(method, params) {
		return ViewSpoof
	}
	return ViewReal
}
