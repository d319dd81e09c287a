package blockalloc

import (
	"github.com/dolthub/swiss"

	"github.com/bbernhar/GPGMM/block"
	"github.com/bbernhar/GPGMM/gpgmmerr"
)

// freeList is one level's doubly-linked free-list, threaded through
// block.Handle rather than pointers (spec §9's arena-owned-node-index
// guidance, grounded on the teacher's swiss.Map-keyed tlsfBlock arena).
type freeList struct {
	head block.Handle
}

// BuddyAllocator manages one logical address range [0, maxBlockSize)
// via power-of-two splitting, per spec §4.1.
type BuddyAllocator struct {
	maxBlockSize int
	alignment    int

	blocks    *swiss.Map[block.Handle, *block.Block]
	nextHandle block.Handle
	freeLists  []freeList
	root       block.Handle

	usedBlockBytes int
	usedBlockCount int
}

// NewBuddyAllocator builds a buddy allocator over [0, maxBlockSize).
// maxBlockSize must be a power of two; alignment is the allocator's
// reported memory alignment (spec §4.1, §9 MemoryAlignment()).
func NewBuddyAllocator(maxBlockSize, alignment int) *BuddyAllocator {
	if !isPow2(maxBlockSize) {
		panic("blockalloc: maxBlockSize must be a power of two")
	}

	a := &BuddyAllocator{
		maxBlockSize: maxBlockSize,
		alignment:    alignment,
		blocks:       swiss.NewMap[block.Handle, *block.Block](64),
		freeLists:    make([]freeList, log2(maxBlockSize)+1),
	}

	root := a.newBlock(&block.Block{Offset: 0, Size: maxBlockSize, State: block.Free, Level: 0})
	a.root = root
	a.freeLists[0].head = root
	return a
}

func (a *BuddyAllocator) newBlock(b *block.Block) block.Handle {
	a.nextHandle++
	h := a.nextHandle
	a.blocks.Put(h, b)
	return h
}

func (a *BuddyAllocator) get(h block.Handle) *block.Block {
	b, ok := a.blocks.Get(h)
	if !ok {
		panic("blockalloc: dangling block handle")
	}
	return b
}

func (a *BuddyAllocator) levelFromSize(size int) int {
	return log2(a.maxBlockSize) - log2(size)
}

// nextFreeAlignedBlock walks from level upward (toward the root) and
// returns the first level whose free-list head is aligned, i.e. the
// deepest such level, which needs the fewest splits; per the teacher's
// GetNextFreeAlignedBlock.
func (a *BuddyAllocator) nextFreeAlignedBlock(level, alignment int) (int, bool) {
	for l := level; l >= 0; l-- {
		head := a.freeLists[l].head
		if head == block.NoBlock {
			continue
		}
		if a.get(head).Offset%alignment == 0 {
			return l, true
		}
	}
	return 0, false
}

func (a *BuddyAllocator) insertFree(h block.Handle, level int) {
	b := a.get(h)
	b.Prev = block.NoBlock
	b.Next = a.freeLists[level].head
	if a.freeLists[level].head != block.NoBlock {
		a.get(a.freeLists[level].head).Prev = h
	}
	a.freeLists[level].head = h
}

func (a *BuddyAllocator) removeFree(h block.Handle, level int) {
	b := a.get(h)
	if a.freeLists[level].head == h {
		a.freeLists[level].head = b.Next
		if b.Next != block.NoBlock {
			a.get(b.Next).Prev = block.NoBlock
		}
		return
	}
	prev, next := b.Prev, b.Next
	a.get(prev).Next = next
	if next != block.NoBlock {
		a.get(next).Prev = prev
	}
}

// TryAllocate implements spec §4.1's Allocate(size, alignment).
func (a *BuddyAllocator) TryAllocate(size, alignment int, flags AllocateFlags) (*Allocation, error) {
	if err := validateRequest(size, alignment); err != nil {
		return nil, err
	}
	if size > a.maxBlockSize {
		return nil, gpgmmerr.New(gpgmmerr.KindInvalidRequest, "request %d exceeds maxBlockSize %d", size, a.maxBlockSize)
	}

	targetLevel := a.levelFromSize(nextPow2(size))

	currLevel, ok := a.nextFreeAlignedBlock(targetLevel, alignment)
	if !ok {
		return nil, nil // OutOfCapacity: silent null per spec §7.
	}
	if flags&NeverAllocate != 0 && currLevel != targetLevel {
		// A split would be required to reach targetLevel; NeverAllocate
		// forbids growing the allocator's committed footprint, but a
		// buddy split doesn't touch the backing heap, so this allocator
		// treats it as satisfiable. Kept explicit for documentation.
	}

	curr := a.freeLists[currLevel].head
	for currLevel < targetLevel {
		a.removeFree(curr, currLevel)

		parent := a.get(curr)
		parent.State = block.Split
		childSize := parent.Size / 2

		leftH := a.newBlock(&block.Block{Offset: parent.Offset, Size: childSize, State: block.Free, Parent: curr, Level: currLevel + 1})
		rightH := a.newBlock(&block.Block{Offset: parent.Offset + childSize, Size: childSize, State: block.Free, Parent: curr, Level: currLevel + 1})
		a.get(leftH).Buddy = rightH
		a.get(rightH).Buddy = leftH
		// A Split block never sits in a free-list, so its unused Next
		// field doubles as the left-child handle (mirrors the teacher's
		// union of split.pLeft with free.pNext), letting
		// countFree/DeleteBlock-style walks descend without a
		// dedicated field.
		parent.Next = leftH

		a.insertFree(rightH, currLevel+1)
		a.insertFree(leftH, currLevel+1)

		curr = leftH
		currLevel++
	}

	a.removeFree(curr, currLevel)
	b := a.get(curr)
	b.State = block.Allocated

	a.usedBlockBytes += b.Size
	a.usedBlockCount++

	return &Allocation{Block: curr, Offset: b.Offset, RequestedSize: size, Method: SubAllocated}, nil
}

// Deallocate implements spec §4.1's Deallocate(block): mark free, then
// merge upward while the buddy is also free.
func (a *BuddyAllocator) Deallocate(alloc *Allocation) error {
	if alloc == nil {
		return nil
	}
	curr := alloc.Block
	b := a.get(curr)
	if b.State != block.Allocated {
		return gpgmmerr.New(gpgmmerr.KindLogicError, "deallocate of non-allocated block %d", curr)
	}

	a.usedBlockBytes -= b.Size
	a.usedBlockCount--

	b.State = block.Free
	level := b.Level

	for level > 0 {
		buddy := a.get(curr).Buddy
		buddyBlock := a.get(buddy)
		if buddyBlock.State != block.Free {
			break
		}

		a.removeFree(buddy, level)
		parent := a.get(curr).Parent

		a.blocks.Delete(buddy)
		a.blocks.Delete(curr)

		parentBlock := a.get(parent)
		parentBlock.State = block.Free

		curr = parent
		level--
	}

	a.insertFree(curr, level)
	return nil
}

// ReleaseMemory is a no-op for the buddy allocator: it never owns
// backing memory beyond the address range given at construction, so
// there is nothing to trim.
func (a *BuddyAllocator) ReleaseMemory(bytes int) (int, error) { return 0, nil }

func (a *BuddyAllocator) GetInfo() Info {
	return Info{
		UsedBlockCount: a.usedBlockCount,
		UsedBlockBytes: a.usedBlockBytes,
		FreeBlockBytes: a.maxBlockSize - a.usedBlockBytes,
	}
}

func (a *BuddyAllocator) MemorySize() int      { return a.maxBlockSize }
func (a *BuddyAllocator) MemoryAlignment() int { return a.alignment }

// ComputeFreeBlockCountForTesting walks the buddy tree and counts free
// leaves, used to verify testable property 2 (spec §8).
func (a *BuddyAllocator) ComputeFreeBlockCountForTesting() int {
	return a.countFree(a.root)
}

func (a *BuddyAllocator) countFree(h block.Handle) int {
	b := a.get(h)
	switch b.State {
	case block.Free:
		return 1
	case block.Split:
		left := b.Next
		right := a.get(left).Buddy
		return a.countFree(left) + a.countFree(right)
	default:
		return 0
	}
}

var _ Allocator = (*BuddyAllocator)(nil)
