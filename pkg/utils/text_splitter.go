package utils

import "unicode"

// lookback is how far SplitText searches backwards for whitespace to end a chunk on.
const lookback = 80

// SplitText splits text into chunks of at most chunkSize runes with overlap
// runes carried over between neighbours. A chunk prefers to end on
// whitespace within the last lookback runes so words stay whole.
func SplitText(text string, chunkSize int, overlap int) []string {
	runes := []rune(text)
	totalLen := len(runes)
	if chunkSize <= 0 || totalLen <= chunkSize {
		return []string{text}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < totalLen; {
		end := start + chunkSize
		if end >= totalLen {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		for i := end; i > end-lookback && i > start+overlap; i-- {
			if unicode.IsSpace(runes[i-1]) {
				end = i
				break
			}
		}

		chunks = append(chunks, string(runes[start:end]))
		start = end - overlap
	}

	return chunks
}
