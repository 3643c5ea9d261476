package ledger

// chunkStrings 按固定大小切分字符串切片
func chunkStrings(items []string, size int) [][]string {
	if size <= 0 || len(items) == 0 {
		if len(items) == 0 {
			return nil
		}
		return [][]string{items}
	}
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// chunkUint64 按固定大小切分ID切片
func chunkUint64(items []uint64, size int) [][]uint64 {
	if size <= 0 || len(items) == 0 {
		if len(items) == 0 {
			return nil
		}
		return [][]uint64{items}
	}
	var chunks [][]uint64
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
