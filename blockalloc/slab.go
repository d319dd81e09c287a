package blockalloc

import (
	"github.com/dolthub/swiss"

	"github.com/bbernhar/GPGMM/block"
	"github.com/bbernhar/GPGMM/gpgmmerr"
)

// SlabAllocator manages one slab of blockSize*blockCount bytes as a
// singly-linked free-list, per spec §4.2. Only the head block is
// materialized at construction; later blocks are created lazily via
// nextFreeBlockIndex.
type SlabAllocator struct {
	blockSize  int
	blockCount int
	alignment  int

	blocks *swiss.Map[block.Handle, *block.Block]
	nextH  block.Handle

	freeHead          block.Handle
	nextFreeBlockIndex int

	usedBlockCount int
}

// NewSlabAllocator builds a slab of blockCount blocks of blockSize
// bytes each, with only the first block materialized.
func NewSlabAllocator(blockSize, blockCount, alignment int) *SlabAllocator {
	a := &SlabAllocator{
		blockSize:  blockSize,
		blockCount: blockCount,
		alignment:  alignment,
		blocks:     swiss.NewMap[block.Handle, *block.Block](8),
	}
	a.freeHead = a.newBlock(0)
	a.nextFreeBlockIndex = 0
	return a
}

func (a *SlabAllocator) newBlock(index int) block.Handle {
	a.nextH++
	h := a.nextH
	a.blocks.Put(h, &block.Block{Offset: index * a.blockSize, Size: a.blockSize, State: block.Free})
	return h
}

func (a *SlabAllocator) get(h block.Handle) *block.Block {
	b, ok := a.blocks.Get(h)
	if !ok {
		panic("blockalloc: dangling slab block handle")
	}
	return b
}

// TryAllocate implements spec §4.2's Allocate(size, alignment).
func (a *SlabAllocator) TryAllocate(size, alignment int, flags AllocateFlags) (*Allocation, error) {
	if err := validateRequest(size, alignment); err != nil {
		return nil, err
	}
	if size > a.blockSize {
		return nil, gpgmmerr.New(gpgmmerr.KindInvalidRequest, "request %d exceeds slab blockSize %d", size, a.blockSize)
	}
	if a.blockSize%alignment != 0 {
		return nil, gpgmmerr.New(gpgmmerr.KindInvalidRequest, "slab blockSize %d is not a multiple of alignment %d", a.blockSize, alignment)
	}

	if a.freeHead == block.NoBlock {
		return nil, nil // OutOfCapacity: silent null.
	}

	h := a.freeHead
	b := a.get(h)
	a.freeHead = b.Next
	b.Next = block.NoBlock
	b.State = block.Allocated
	a.usedBlockCount++

	if a.freeHead == block.NoBlock && a.nextFreeBlockIndex+1 < a.blockCount {
		a.nextFreeBlockIndex++
		a.freeHead = a.newBlock(a.nextFreeBlockIndex)
	}

	return &Allocation{Block: h, Offset: b.Offset, RequestedSize: size, Method: SubAllocated}, nil
}

// Deallocate implements spec §4.2's Deallocate: push onto the
// free-list head.
func (a *SlabAllocator) Deallocate(alloc *Allocation) error {
	if alloc == nil {
		return nil
	}
	b := a.get(alloc.Block)
	if b.State != block.Allocated {
		return gpgmmerr.New(gpgmmerr.KindLogicError, "deallocate of non-allocated slab block")
	}
	b.State = block.Free
	b.Next = a.freeHead
	a.freeHead = alloc.Block
	a.usedBlockCount--
	return nil
}

// ReleaseMemory is a no-op: a single SlabAllocator never owns more
// than its fixed blockSize*blockCount footprint to trim.
func (a *SlabAllocator) ReleaseMemory(bytes int) (int, error) { return 0, nil }

// IsFull reports whether the slab has no free block and lazy
// allocation is exhausted (spec §4.2's IsFull).
func (a *SlabAllocator) IsFull() bool {
	return a.freeHead == block.NoBlock
}

// IsEmpty reports whether every block in the slab is free — used to
// detect when a slab's refcount has dropped to zero.
func (a *SlabAllocator) IsEmpty() bool { return a.usedBlockCount == 0 }

func (a *SlabAllocator) GetInfo() Info {
	used := a.usedBlockCount * a.blockSize
	return Info{
		UsedBlockCount: a.usedBlockCount,
		UsedBlockBytes: used,
		FreeBlockBytes: a.blockSize*a.blockCount - used,
	}
}

func (a *SlabAllocator) MemorySize() int      { return a.blockSize * a.blockCount }
func (a *SlabAllocator) MemoryAlignment() int { return a.alignment }

var _ Allocator = (*SlabAllocator)(nil)
