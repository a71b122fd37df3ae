package payment

import "fmt"

// Options selects and configures a provider.
type Options struct {
	Provider        string // "stripe" (default) or "payrexx"
	StripeSecretKey string
	WebhookSecret   string
	PayrexxInstance string
	PayrexxAPIKey   string
}

// New builds the provider named in opts.
func New(opts Options) (Provider, error) {
	switch opts.Provider {
	case "", "stripe":
		return NewStripe(opts.StripeSecretKey, opts.WebhookSecret), nil
	case "payrexx":
		if opts.PayrexxInstance == "" {
			return nil, fmt.Errorf("payment: payrexx requires an instance name")
		}
		return NewPayrexx(opts.PayrexxInstance, opts.PayrexxAPIKey, opts.WebhookSecret), nil
	default:
		return nil, fmt.Errorf("payment: unknown provider %q", opts.Provider)
	}
}
