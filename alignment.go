package gpgmm

import "github.com/bbernhar/GPGMM/internal/driver"

// Alignment rules supplementing spec §4.6 step 1, grounded in the
// heap-kind-specific tables the original implementation hard-codes:
// buffers always round to 64 KB, and textures below a size threshold
// round to the matching small-resource alignment.
const (
	bufferAlignment          = 64 * 1024
	smallTextureAlignment    = 4 * 1024
	smallMSAATextureAlignment = 64 * 1024
)

// preferredAlignment computes the alignment CreateResource asks the
// driver for before QueryResourceInfo is allowed to fall back to
// alignment 0 (spec §4.6 step 1).
func preferredAlignment(desc ResourceDescriptor) int {
	if desc.Kind == driver.HeapKindBuffer {
		return bufferAlignment
	}
	if desc.Size < smallTextureAlignment {
		return smallTextureAlignment
	}
	if desc.Size < smallMSAATextureAlignment {
		return smallMSAATextureAlignment
	}
	if desc.IsMultisampled && !desc.IsRenderTargetOrDepthStencil {
		return smallMSAATextureAlignment
	}
	return 0
}

// computeResourceSizeAndAlignment implements spec §4.6 step 1: query
// the driver with the preferred alignment, and if it rejects that
// alignment (reports an invalid size), retry with alignment 0 and
// accept whatever the driver returns.
func computeResourceSizeAndAlignment(drv driver.Driver, desc ResourceDescriptor) (int, int, driver.ResourceDescriptor, error) {
	dd := driver.ResourceDescriptor{
		RequestedSize:                desc.Size,
		RequestedAlignment:           preferredAlignment(desc),
		IsRenderTargetOrDepthStencil: desc.IsRenderTargetOrDepthStencil,
		IsMultisampled:               desc.IsMultisampled,
		IsBuffer:                     desc.Kind == driver.HeapKindBuffer,
		Kind:                         desc.Kind,
	}

	size, alignment, err := drv.QueryResourceInfo(dd)
	if err != nil {
		return 0, 0, dd, err
	}
	if size == driver.InvalidResourceSize && dd.RequestedAlignment != 0 {
		dd.RequestedAlignment = 0
		size, alignment, err = drv.QueryResourceInfo(dd)
		if err != nil {
			return 0, 0, dd, err
		}
	}
	return size, alignment, dd, nil
}
