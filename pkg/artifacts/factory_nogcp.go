//go:build !gcp

package artifacts

import (
	"context"
	"errors"
)

var errGCSDisabled = errors.New("artifacts: GCS storage is not enabled in this build (use -tags gcp)")

func newGCSStoreFromEnv(context.Context) (Store, error) {
	return nil, errGCSDisabled
}
