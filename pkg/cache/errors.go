package cache

import (
	"fmt"

	perrors "contactperf/pkg/error"
)

// ImageLoadError 图片加载失败。调用方可以重试，失败时进行中的标记已被移除。
type ImageLoadError struct {
	perrors.BaseError
	URL string `json:"url"`
}

// NewImageLoadError 创建携带出错 URL 的 ImageLoadError
func NewImageLoadError(url string, cause error) *ImageLoadError {
	return &ImageLoadError{
		BaseError: *perrors.WrapError(perrors.ErrImageLoadFailed, fmt.Sprintf("failed to load image: %s", url), cause),
		URL:       url,
	}
}
