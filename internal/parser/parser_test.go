package parser

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/netguard"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()

	p := New(Limits{MaxDimension: 4000, MaxOperations: 8, MaxSigma: 100}, netguard.Policy{}, nil)
	require.NoError(t, p.LoadPresets(map[string]string{
		"thumb": "operation=resize&width=150&height=150&operation=grayscale",
	}))
	return p
}

func TestParseQuery_OrderedStages(t *testing.T) {
	p := newTestParser(t)

	plan, err := p.ParseQuery("operation=resize&width=300&operation=rotate&angle=180&format=webp")
	require.NoError(t, err)

	require.Len(t, plan.Operations, 2)
	assert.Equal(t, model.KindResize, plan.Operations[0].Kind)
	assert.Equal(t, 300, plan.Operations[0].Width)
	assert.Equal(t, 0, plan.Operations[0].Height)
	assert.Equal(t, model.KindRotate, plan.Operations[1].Kind)
	assert.Equal(t, 180.0, plan.Operations[1].Angle)
	assert.Equal(t, model.FormatWebP, plan.Format)
}

func TestParseQuery_StageScoping(t *testing.T) {
	p := newTestParser(t)

	plan, err := p.ParseQuery("operation=resize&width=300&operation=crop&width=100&height=50")
	require.NoError(t, err)

	require.Len(t, plan.Operations, 2)
	assert.Equal(t, 300, plan.Operations[0].Width)
	assert.Equal(t, 100, plan.Operations[1].Width)
	assert.Equal(t, 50, plan.Operations[1].Height)
}

func TestParseQuery_PoolFallback(t *testing.T) {
	p := newTestParser(t)

	// watermark parameters declared before their operation token
	plan, err := p.ParseQuery("operation=resize&width=400&height=200&image=https://cdn.example.com/w.png&opacity=0.5&position=top-left&operation=watermark")
	require.NoError(t, err)

	require.Len(t, plan.Operations, 2)
	wm := plan.Operations[1].Watermark
	require.NotNil(t, wm)
	assert.Equal(t, "https://cdn.example.com/w.png", wm.Image)
	assert.Equal(t, 0.5, wm.Opacity)
	assert.Equal(t, "top-left", wm.Position)
}

func TestParseQuery_LastValueWins(t *testing.T) {
	p := newTestParser(t)

	a, err := p.ParseQuery("operation=resize&width=100&width=200")
	require.NoError(t, err)
	b, err := p.ParseQuery("operation=resize&width=200")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
}

func TestParseQuery_ImplicitResize(t *testing.T) {
	p := newTestParser(t)

	plan, err := p.ParseQuery("width=400")
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)
	assert.Equal(t, model.KindResize, plan.Operations[0].Kind)
	assert.Equal(t, 400, plan.Operations[0].Width)
}

func TestParseQuery_Identity(t *testing.T) {
	p := newTestParser(t)

	plan, err := p.ParseQuery("")
	require.NoError(t, err)
	assert.True(t, plan.IsIdentity())
}

func TestParseQuery_AngleNormalized(t *testing.T) {
	p := newTestParser(t)

	a, err := p.ParseQuery("operation=rotate&angle=-90")
	require.NoError(t, err)
	b, err := p.ParseQuery("operation=rotate&angle=270")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
}

func TestParseQuery_Grayscale(t *testing.T) {
	p := newTestParser(t)

	plan, err := p.ParseQuery("width=100&grayscale")
	require.NoError(t, err)
	require.Len(t, plan.Operations, 2)
	assert.Equal(t, model.KindGrayscale, plan.Operations[1].Kind)

	_, err = p.ParseQuery("grayscale=maybe")
	assert.True(t, model.IsKind(err, model.ErrValidation))
}

func TestParseQuery_Rejections(t *testing.T) {
	p := newTestParser(t)

	cases := map[string]model.ErrorKind{
		"width=0":                    model.ErrValidation,
		"width=-5":                   model.ErrValidation,
		"width=abc":                  model.ErrValidation,
		"width=":                     model.ErrValidation,
		"operation=resize":           model.ErrValidation,
		"operation=":                 model.ErrValidation,
		"operation=explode":          model.ErrValidation,
		"width=100&quality=0":        model.ErrValidation,
		"width=100&quality=200":      model.ErrValidation,
		"width=100&quality=":         model.ErrValidation,
		"operation=rotate&angle=abc": model.ErrValidation,
		"operation=rotate":           model.ErrValidation,
		"operation=blur&sigma=0":     model.ErrValidation,
		"operation=blur&sigma=-1":    model.ErrValidation,
		"operation=blur&sigma=500":   model.ErrLimitExceeded,
		"width=100000":               model.ErrLimitExceeded,
		"width=100&format=heic":      model.ErrUnsupported,
		"width=100&format=":          model.ErrValidation,
		"operation=extract&top=-1&left=0&areawidth=10&areaheight=10":                            model.ErrValidation,
		"operation=extract&top=0&left=-3&areawidth=10&areaheight=10":                            model.ErrValidation,
		"operation=extract&top=0&left=0&areawidth=10":                                           model.ErrValidation,
		"operation=watermark&image=https://cdn.example.com/w.png&opacity=2.0&position=top-left": model.ErrValidation,
		"operation=watermark&image=https://cdn.example.com/w.png&opacity=0.5&position=middle":   model.ErrValidation,
		"operation=watermark&image=http://127.0.0.1/w.png&opacity=0.5&position=top-left":        model.ErrValidation,
		"operation=watermark&image=http://169.254.169.254/&opacity=0.5&position=top-left":       model.ErrValidation,
		"operation=watermark&opacity=0.5&position=top-left":                                     model.ErrValidation,
		"operation=crop&width=10":                      model.ErrValidation,
		"operation=crop&width=10&height=10&gravity=up": model.ErrValidation,
	}

	for query, kind := range cases {
		_, err := p.ParseQuery(query)
		require.Error(t, err, query)
		assert.Equal(t, kind, model.KindOf(err), query)
	}
}

func TestParseQuery_ResizeCropAuto(t *testing.T) {
	p := newTestParser(t)

	plan, err := p.ParseQuery("operation=resizeCropAuto&width=210&height=200")
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)
	op := plan.Operations[0]
	assert.Equal(t, model.KindResizeCropAuto, op.Kind)
	assert.Equal(t, 210, op.Width)
	assert.Equal(t, 200, op.Height)
	assert.Empty(t, op.Gravity)

	for _, q := range []string{
		"operation=resizeCropAuto&width=100",
		"operation=resizeCropAuto&width=-100&height=200",
		"operation=resizeCropAuto&width=100&height=0",
	} {
		_, err := p.ParseQuery(q)
		assert.True(t, model.IsKind(err, model.ErrValidation), q)
	}

	crop, err := p.ParseQuery("operation=crop&width=210&height=200")
	require.NoError(t, err)
	assert.False(t, plan.Equal(crop))
}

func TestParseQuery_UnusedParametersAreValidated(t *testing.T) {
	p := newTestParser(t)

	cases := map[string]model.ErrorKind{
		"operation=resize&width=10&top=-1":           model.ErrValidation,
		"operation=resize&width=10&angle=abc":        model.ErrValidation,
		"operation=resize&width=10&sigma=0":          model.ErrValidation,
		"operation=resize&width=10&opacity=7":        model.ErrValidation,
		"operation=resize&width=10&position=middle":  model.ErrValidation,
		"operation=resize&width=10&gravity=up":       model.ErrValidation,
		"operation=grayscale&height=0":               model.ErrValidation,
		"operation=grayscale&areawidth=99999":        model.ErrLimitExceeded,
		"operation=grayscale&image=http://127.0.0.1": model.ErrValidation,
	}
	for query, kind := range cases {
		_, err := p.ParseQuery(query)
		require.Error(t, err, query)
		assert.Equal(t, kind, model.KindOf(err), query)
	}

	// unknown keys stay ignored, well-formed unused ones are accepted
	_, err := p.ParseQuery("operation=resize&width=10&v=3&top=5&text=hi")
	assert.NoError(t, err)

	_, err = p.Parse("/b/img.jpg/thumb", "top=-1", http.Header{})
	assert.True(t, model.IsKind(err, model.ErrValidation))
}

func TestParseQuery_TooManyOperations(t *testing.T) {
	p := New(Limits{MaxOperations: 2}, netguard.Policy{}, nil)

	_, err := p.ParseQuery("operation=grayscale&operation=grayscale&operation=grayscale")
	assert.True(t, model.IsKind(err, model.ErrLimitExceeded))
}

func TestParse_PathAndPreset(t *testing.T) {
	p := newTestParser(t)

	req, err := p.Parse("/photos/2024/img.jpg", "width=100", http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "photos", req.Bucket)
	assert.Equal(t, "2024/img.jpg", req.Key)
	assert.Empty(t, req.Preset)

	req, err = p.Parse("/photos/img.jpg/thumb", "format=png", http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "img.jpg", req.Key)
	assert.Equal(t, "thumb", req.Preset)
	require.Len(t, req.Plan.Operations, 2)
	assert.Equal(t, model.FormatPNG, req.Plan.Format)
}

func TestParse_UnknownPresetIsValidation(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse("/photos/missing.jpg/nope", "", http.Header{})
	assert.True(t, model.IsKind(err, model.ErrValidation))
}

func TestParse_PathRejections(t *testing.T) {
	p := newTestParser(t)

	for _, path := range []string{"/bucket", "/", "/b/../etc/passwd", "/b/a\\b.jpg", "/b/a\r\nb.jpg", "/b//x.jpg"} {
		_, err := p.Parse(path, "", http.Header{})
		assert.True(t, model.IsKind(err, model.ErrValidation), path)
	}
}

func TestParse_AcceptNegotiation(t *testing.T) {
	p := newTestParser(t)

	h := http.Header{}
	h.Set("Accept", "image/avif,image/webp,image/apng,*/*;q=0.8")

	req, err := p.Parse("/b/img.jpg", "width=100", h)
	require.NoError(t, err)
	assert.Equal(t, model.FormatWebP, req.Plan.Format)

	// explicit format wins
	req, err = p.Parse("/b/img.jpg", "width=100&format=png", h)
	require.NoError(t, err)
	assert.Equal(t, model.FormatPNG, req.Plan.Format)

	// static requests keep native bytes
	req, err = p.Parse("/b/img.jpg", "", h)
	require.NoError(t, err)
	assert.True(t, req.Plan.IsIdentity())
}

func TestNegotiateFormat(t *testing.T) {
	assert.Equal(t, model.Format(""), NegotiateFormat(""))
	assert.Equal(t, model.Format(""), NegotiateFormat("*/*"))
	assert.Equal(t, model.Format(""), NegotiateFormat("image/*"))
	assert.Equal(t, model.FormatPNG, NegotiateFormat("image/png, image/webp;q=0.5"))
	assert.Equal(t, model.FormatWebP, NegotiateFormat("image/png, image/webp"))
	assert.Equal(t, model.Format(""), NegotiateFormat("image/webp;q=0"))
}

func TestResolveFormat(t *testing.T) {
	plan := model.Plan{Operations: []model.Operation{{Kind: model.KindGrayscale}}}

	resolved, err := ResolveFormat(plan, "image/png")
	require.NoError(t, err)
	assert.Equal(t, model.FormatPNG, resolved.Format)

	_, err = ResolveFormat(plan, "application/pdf")
	assert.True(t, model.IsKind(err, model.ErrUnsupported))

	identity, err := ResolveFormat(model.Plan{}, "application/pdf")
	require.NoError(t, err)
	assert.True(t, identity.IsIdentity())
}

func TestLoadPresets_Invalid(t *testing.T) {
	p := New(Limits{}, netguard.Policy{}, nil)
	assert.Error(t, p.LoadPresets(map[string]string{"bad": "width=0"}))
	assert.Error(t, p.LoadPresets(map[string]string{"empty": ""}))
}
