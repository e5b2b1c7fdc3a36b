package message

import (
	"errors"
	"net/url"
	"strings"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/phone"
)

// Compose targets for the two WhatsApp surfaces.
const (
	AppBaseURL = "whatsapp://send"
	WebBaseURL = "https://web.whatsapp.com/send"
)

var mobileMarkers = []string{"android", "iphone", "ipad", "ipod", "mobile"}

// IsMobile sniffs a user agent for a handheld device.
func IsMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, m := range mobileMarkers {
		if strings.Contains(ua, m) {
			return true
		}
	}
	return false
}

// LaunchURL builds the compose target for the platform implied by userAgent:
// the app deep link on mobile, WhatsApp Web elsewhere.
func LaunchURL(phoneNumber, text, userAgent string) string {
	base := WebBaseURL
	if IsMobile(userAgent) {
		base = AppBaseURL
	}
	q := url.Values{}
	q.Set("phone", phone.Digits(phoneNumber))
	q.Set("text", text)
	return base + "?" + q.Encode()
}

// Launcher implements outreach.Launcher by returning the compose target for
// the operator's client to open. It cannot observe whether the message is
// actually sent from that surface.
type Launcher struct{}

// NewLauncher returns a Launcher.
func NewLauncher() *Launcher {
	return &Launcher{}
}

// Launch returns the compose target for phoneNumber and text.
func (Launcher) Launch(phoneNumber, text, userAgent string) (string, error) {
	if phone.Digits(phoneNumber) == "" {
		return "", errors.New("launch: phone number is empty")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("launch: message is empty")
	}
	return LaunchURL(phoneNumber, text, userAgent), nil
}
