package creative

import (
	"fmt"

	"github.com/dmitrijs2005/adpipe/internal/models"
)

// Destination is where an ad sends people.
type Destination string

const (
	DestinationWhatsApp         Destination = "WHATSAPP"
	DestinationWebsite          Destination = "WEBSITE"
	DestinationInstagramProfile Destination = "INSTAGRAM_PROFILE"
	DestinationLeadForm         Destination = "LEAD_FORM"
	DestinationAppStore         Destination = "APP_STORE"
)

// DestinationFor maps a direction objective to its destination.
func DestinationFor(o models.Objective) (Destination, error) {
	switch o {
	case models.ObjectiveWhatsApp:
		return DestinationWhatsApp, nil
	case models.ObjectiveConversions, models.ObjectiveSiteLeads:
		return DestinationWebsite, nil
	case models.ObjectiveInstagramTraffic:
		return DestinationInstagramProfile, nil
	case models.ObjectiveLeadForms:
		return DestinationLeadForm, nil
	case models.ObjectiveAppInstalls:
		return DestinationAppStore, nil
	}
	return "", fmt.Errorf("no destination for objective %q", o)
}

// Call-to-action types.
const (
	CTAWhatsAppMessage  = "WHATSAPP_MESSAGE"
	CTALearnMore        = "LEARN_MORE"
	CTASignUp           = "SIGN_UP"
	CTAInstallMobileApp = "INSTALL_MOBILE_APP"
)

const (
	whatsAppLink = "https://api.whatsapp.com/send"
	leadFormLink = "http://fb.me/"

	minCarouselCards = 2
	maxCarouselCards = 10
)
