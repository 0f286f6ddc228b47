package plutu

// ProviderCode identifies this gateway integration on transaction records.
const ProviderCode = "plutu"

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.plutus.ly/api/v1/"

// strictGateways lists the sub-rails reconciled without an implicit
// pending fallback.
var strictGateways = map[string]struct{}{
	"localbankcards": {},
	"tlync":          {},
}

// IsStrictGateway reports whether the named sub-rail uses the strict
// reconciliation branch.
func IsStrictGateway(name string) bool {
	_, ok := strictGateways[name]
	return ok
}

// PaymentMethodAliases maps platform method codes onto the gateway's
// endpoint segments where they differ.
var PaymentMethodAliases = map[string]string{
	"bank_transfer": "banktransfer",
}

// EndpointMethod resolves the endpoint segment for a payment method code.
func EndpointMethod(code string) string {
	if alias, ok := PaymentMethodAliases[code]; ok {
		return alias
	}
	return code
}
