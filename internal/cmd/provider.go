package cmd

import (
	"context"

	"github.com/quodlibetor/s3glob/internal/config"
	"github.com/quodlibetor/s3glob/pkg/provider/s3"
)

// newProvider builds the S3 provider for bucket from the resolved ambient
// config, mirroring the teacher's getProvider closure in
// internal/cmd/content_head.go.
func newProvider(ctx context.Context, bucket string, cfg *config.Config) (*s3.Provider, error) {
	return s3.New(ctx, s3.Config{
		Bucket:         bucket,
		Region:         cfg.Region,
		Endpoint:       cfg.Endpoint,
		Profile:        cfg.Profile,
		ForcePathStyle: cfg.Endpoint != "",
		NoSignRequest:  cfg.NoSignRequest,
	})
}
