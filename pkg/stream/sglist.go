package stream

import "fmt"

// SGEntry is one contiguous piece of a segment as the BAM sees it
type SGEntry struct {
	Offset uint64
	Length uint32
}

// SGList is the scatter-gather list describing one ring segment
type SGList struct {
	entries  []SGEntry
	pageSize uint32
	total    uint64
}

// NewSGList splits size bytes starting at base into page sized entries
func NewSGList(base, size uint64, pageSize uint32) (*SGList, error) {
	if size == 0 {
		return nil, fmt.Errorf("scatter-gather list cannot be empty")
	}
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", pageSize)
	}

	count := CalculateEntryCount(size, pageSize)
	entries := make([]SGEntry, 0, count)
	remaining := size
	off := base
	for remaining > 0 {
		n := uint64(pageSize)
		if remaining < n {
			n = remaining
		}
		entries = append(entries, SGEntry{Offset: off, Length: uint32(n)})
		off += n
		remaining -= n
	}

	return &SGList{
		entries:  entries,
		pageSize: pageSize,
		total:    size,
	}, nil
}

// Entries returns the list entries
func (l *SGList) Entries() []SGEntry {
	return l.entries
}

// Len returns the number of entries
func (l *SGList) Len() int {
	return len(l.entries)
}

// Base returns the offset of the first entry
func (l *SGList) Base() uint64 {
	return l.entries[0].Offset
}

// TotalSize returns the number of bytes covered
func (l *SGList) TotalSize() uint64 {
	return l.total
}

// PageSize returns the entry granularity
func (l *SGList) PageSize() uint32 {
	return l.pageSize
}

// CalculateEntryCount calculates the number of entries needed for a buffer
func CalculateEntryCount(bufferSize uint64, pageSize uint32) uint64 {
	pageSizeU64 := uint64(pageSize)
	return (bufferSize + pageSizeU64 - 1) / pageSizeU64
}
