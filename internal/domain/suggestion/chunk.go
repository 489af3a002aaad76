package suggestion

import "strings"

// Chunk splits content into pieces of at most maxBytes, preferring
// paragraph then sentence then word boundaries. maxBytes <= 0 returns the
// content as a single chunk.
func Chunk(content string, maxBytes int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if maxBytes <= 0 || len(content) <= maxBytes {
		return []string{content}
	}

	var chunks []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+2+len(para) > maxBytes {
			flush()
		}
		if len(para) <= maxBytes {
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(para)
			continue
		}

		flush()
		chunks = append(chunks, splitLong(para, maxBytes)...)
	}
	flush()

	return chunks
}

func splitLong(para string, maxBytes int) []string {
	var out []string
	var cur strings.Builder

	for _, unit := range sentenceSplit.FindAllString(para, -1) {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(unit) > maxBytes {
			out = append(out, cur.String())
			cur.Reset()
		}
		for len(unit) > maxBytes {
			cut := strings.LastIndexByte(unit[:maxBytes], ' ')
			if cut <= 0 {
				cut = len(truncateUTF8(unit, maxBytes))
				if cut == 0 {
					cut = maxBytes
				}
			}
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, strings.TrimSpace(unit[:cut]))
			unit = strings.TrimSpace(unit[cut:])
		}
		if unit == "" {
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(unit)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
