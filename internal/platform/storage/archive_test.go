package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archive_Put(t *testing.T) {
	fp := &fakePutter{}
	a := &S3Archive{client: fp, bucket: "reports"}

	err := a.Put(context.Background(), "reports/t1/r1.pdf", []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "reports", aws.ToString(fp.in.Bucket))
	assert.Equal(t, "reports/t1/r1.pdf", aws.ToString(fp.in.Key))
	assert.Equal(t, "application/pdf", aws.ToString(fp.in.ContentType))
	assert.Equal(t, []byte("%PDF-1.4"), fp.body)
}

func TestS3Archive_PutError(t *testing.T) {
	a := &S3Archive{client: &fakePutter{err: errors.New("access denied")}, bucket: "reports"}

	err := a.Put(context.Background(), "k", nil, "application/pdf")
	assert.ErrorContains(t, err, "access denied")
}
