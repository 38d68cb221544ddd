package s3backup

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockS3 struct {
	PutObjectFunc func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

func (m *MockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.PutObjectFunc(ctx, params)
}

func TestUploader_Upload(t *testing.T) {
	var got *s3.PutObjectInput
	var body string
	u := NewWithClient(&MockS3{PutObjectFunc: func(_ context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		got = params
		data, err := io.ReadAll(params.Body)
		require.NoError(t, err)
		body = string(data)
		return &s3.PutObjectOutput{}, nil
	}})

	err := u.Upload(context.Background(), "backups", "findash/connections.json", strings.NewReader(`{"connections":[]}`))
	require.NoError(t, err)

	assert.Equal(t, "backups", aws.ToString(got.Bucket))
	assert.Equal(t, "findash/connections.json", aws.ToString(got.Key))
	assert.Equal(t, types.ServerSideEncryptionAes256, got.ServerSideEncryption)
	assert.Equal(t, `{"connections":[]}`, body)
}

func TestUploader_UploadError(t *testing.T) {
	u := NewWithClient(&MockS3{PutObjectFunc: func(context.Context, *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return nil, errors.New("AccessDenied")
	}})

	err := u.Upload(context.Background(), "backups", "k", strings.NewReader("{}"))
	assert.ErrorContains(t, err, "s3://backups/k")
	assert.ErrorContains(t, err, "AccessDenied")
}
