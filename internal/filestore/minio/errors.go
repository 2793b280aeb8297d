package minio

import (
	"errors"
	"net"
	"net/http"

	"github.com/koustreak/mediavault/internal/errs"
	miniogo "github.com/minio/minio-go/v7"
)

// mapError translates a MinIO SDK error into a vault error kind.
// Transient conditions map to ErrKindUnavailable so that callers holding a
// rewindable source may retry. Only a missing key is ErrKindNotFound; a
// missing bucket or rejected credentials are store failures.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if ctxErr := errs.FromContext(err, msg); ctxErr != nil {
		return ctxErr
	}

	// MinIO SDK exposes a typed ErrorResponse for S3-protocol errors
	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey":
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errs.Wrap(errs.ErrKindStorageFailure, msg, err)
		case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError", "InvalidRange":
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case "RequestTimeout", "SlowDown", "ServiceUnavailable", "InternalError", "XMinioServerNotInitialized":
			return errs.Wrap(errs.ErrKindUnavailable, msg, err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case resp.StatusCode >= http.StatusInternalServerError:
			return errs.Wrap(errs.ErrKindUnavailable, msg, err)
		}
		return errs.Wrap(errs.ErrKindStorageFailure, msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.Wrap(errs.ErrKindUnavailable, msg, err)
	}

	return errs.Wrap(errs.ErrKindStorageFailure, msg, err)
}
