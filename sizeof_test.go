package rtcore

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestCacheLinePaddedStructsSpanAtLeastTwoLines(t *testing.T) {
	assert.GreaterOrEqual(t, unsafe.Sizeof(taskState{}), uintptr(2*cacheLineSize))
	assert.GreaterOrEqual(t, unsafe.Sizeof(fastState{}), uintptr(2*cacheLineSize))
	assert.GreaterOrEqual(t, unsafe.Sizeof(workStealingDeque{}), uintptr(2*cacheLineSize))
}

func TestSizeOfAtomicUint64Constant(t *testing.T) {
	var v atomic.Uint64
	assert.EqualValues(t, sizeOfAtomicUint64, unsafe.Sizeof(v))
}
