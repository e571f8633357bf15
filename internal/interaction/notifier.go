package interaction

import "github.com/EF-corp/AgroBotTg/internal/renewal"

// Notifier pushes messages to a user outside of a request, such as the
// result of a purchase that settled after the checkout link was returned.
// Renewals report through the same transport.
type Notifier = renewal.Notifier
