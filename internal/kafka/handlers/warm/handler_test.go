package warm

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/image-gateway/internal/model"
	imagesvc "github.com/aliskhannn/image-gateway/internal/service/image"
)

type fakeService struct {
	got []model.WarmRequest
	err error
}

func (f *fakeService) Warm(_ context.Context, req model.WarmRequest) (imagesvc.Result, error) {
	f.got = append(f.got, req)
	return imagesvc.Result{}, f.err
}

func TestHandle(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(svc)

	err := h.Handle(context.Background(), kafka.Message{
		Value: []byte(`{"bucket":"media","key":"a/b.jpg","query":"width=100","accept":"image/webp"}`),
	})
	require.NoError(t, err)
	require.Len(t, svc.got, 1)
	assert.Equal(t, "media", svc.got[0].Bucket)
	assert.Equal(t, "a/b.jpg", svc.got[0].Key)
	assert.Equal(t, "width=100", svc.got[0].Query)
	assert.Equal(t, "image/webp", svc.got[0].Accept)
}

func TestHandle_Errors(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(svc)

	assert.Error(t, h.Handle(context.Background(), kafka.Message{Value: []byte("not json")}))
	assert.Empty(t, svc.got)

	svc.err = model.Errorf(model.ErrNotFound, "missing")
	err := h.Handle(context.Background(), kafka.Message{Value: []byte(`{"bucket":"b","key":"k"}`)})
	assert.Equal(t, model.ErrNotFound, model.KindOf(err))
}
