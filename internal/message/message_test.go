package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/language"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

func TestComposeSpanishFromPhone(t *testing.T) {
	t.Parallel()

	text, lang := NewComposer().Compose(outreach.Contact{Phone: "+525512345678", Name: "Ana", Company: "Acme"})

	assert.Equal(t, language.Spanish, lang)
	assert.Contains(t, text, "Acme")
	assert.Contains(t, text, "Ana")
	assert.Contains(t, text, "BAJA")
	assert.NotContains(t, text, "{{")
	assert.NotContains(t, text, "}}")
	assert.NotContains(t, text, "%!")
}

func TestComposeEnglishFromPhone(t *testing.T) {
	t.Parallel()

	text, lang := NewComposer().Compose(outreach.Contact{Phone: "+14155552671", Company: "Acme"})

	assert.Equal(t, language.English, lang)
	assert.Contains(t, text, "Acme")
	assert.Contains(t, text, "STOP")
}

func TestComposeLanguageOverride(t *testing.T) {
	t.Parallel()

	_, lang := NewComposer().Compose(outreach.Contact{Phone: "+525512345678", Company: "Acme", Language: language.English})
	assert.Equal(t, language.English, lang)

	_, lang = NewComposer().Compose(outreach.Contact{Phone: "+14155552671", Company: "Acme", Language: "fr"})
	assert.Equal(t, language.English, lang, "unsupported override falls back to detection")
}

func TestComposeFallbacks(t *testing.T) {
	t.Parallel()

	text := Compose(outreach.Contact{Phone: "+525512345678"})
	assert.Contains(t, text, "tu negocio")

	text = Compose(outreach.Contact{Phone: "+525512345678", Name: "Taquería Don Pepe"})
	assert.Contains(t, text, "Taquería Don Pepe")
}

func TestLaunchURLByUserAgent(t *testing.T) {
	t.Parallel()

	mobile := LaunchURL("+525512345678", "hola mundo", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
	require.True(t, strings.HasPrefix(mobile, AppBaseURL+"?"))
	assert.Contains(t, mobile, "phone=525512345678")
	assert.Contains(t, mobile, "text=hola+mundo")

	desktop := LaunchURL("+525512345678", "hola", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	require.True(t, strings.HasPrefix(desktop, WebBaseURL+"?"))
}

func TestLauncherRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	l := NewLauncher()
	_, err := l.Launch("", "hola", "")
	require.Error(t, err)
	_, err = l.Launch("+525512345678", "  ", "")
	require.Error(t, err)

	target, err := l.Launch("+525512345678", "hola", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, WebBaseURL))
}
