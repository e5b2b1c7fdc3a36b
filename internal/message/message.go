// Package message renders localized outreach messages and builds the
// WhatsApp compose targets they are handed to.
package message

import (
	"fmt"
	"strings"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/language"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

const spanishBody = `¡Hola %s! 👋

Te escribimos de Geobooker, el directorio de negocios locales de México. Queremos invitar a %s a aparecer gratis en nuestro mapa para que más clientes cerca de ti te encuentren.

✅ Registro gratuito en 2 minutos
✅ Tu negocio visible en Google y en Geobooker
✅ Recibe reseñas y contactos directos

Regístrate aquí: https://geobooker.com.mx/registro

Si no deseas recibir más mensajes, responde BAJA.`

const englishBody = `Hi %s! 👋

This is Geobooker, the local business directory. We'd like to invite %s to be listed for free on our map so more nearby customers can find you.

✅ Free sign-up in 2 minutes
✅ Your business visible on Google and Geobooker
✅ Get reviews and direct leads

Sign up here: https://geobooker.com.mx/registro

If you'd rather not receive more messages, reply STOP.`

// Composer renders outreach messages.
type Composer struct{}

// NewComposer returns a Composer.
func NewComposer() *Composer {
	return &Composer{}
}

// Compose renders the message for c and reports the language used. An explicit
// supported c.Language wins over the language detected from the phone prefix.
func (Composer) Compose(c outreach.Contact) (string, language.Language) {
	lang, ok := language.Parse(string(c.Language))
	if !ok {
		lang = language.Detect(c.Phone)
	}
	greeting := strings.TrimSpace(c.Name)
	company := strings.TrimSpace(c.Company)
	if company == "" {
		company = greeting
	}

	switch lang {
	case language.English:
		return fmt.Sprintf(englishBody, orDefault(greeting, "there"), orDefault(company, "your business")), lang
	default:
		return fmt.Sprintf(spanishBody, orDefault(greeting, "equipo"), orDefault(company, "tu negocio")), lang
	}
}

// Compose renders the message for c with the default Composer.
func Compose(c outreach.Contact) string {
	text, _ := Composer{}.Compose(c)
	return text
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
