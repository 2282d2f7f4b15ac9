// Package lyrics, zaman damgalı şarkı sözü (LRC) dosyalarını parse eder ve
// bir playback pozisyonu için aktif satırı seçer.
//
// Format satır bazlıdır:
//
//	[00:12.50]first line
//	[01:03.1]second line
//
// Dakika en az bir hane, saniye tam iki hane, kesir (opsiyonel) 1-3 hanedir.
// Zaman damgası olmayan satırlar (ör. [ar:Artist] tag'leri, boş satırlar) yoksayılır.
package lyrics

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var linePattern = regexp.MustCompile(`^\[(\d+):(\d{2})(?:\.(\d{1,3}))?\](.*)$`)

// Line, tek bir zaman damgalı söz satırı.
type Line struct {
	Time float64 `json:"time"` // saniye
	Text string  `json:"text"`
}

// Sheet, zamana göre artan sıralı satır listesi.
// Sıfır değeri (boş Sheet) geçerlidir; hiçbir pozisyon için satır döndürmez.
type Sheet struct {
	lines []Line
}

// Parse, LRC içeriğini okur. Satırlar zaman damgasına göre stable sıralanır,
// yani aynı zamana sahip iki satır dosyadaki sırasını korur.
func Parse(r io.Reader) (*Sheet, error) {
	var lines []Line

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line, ok := parseLine(sc.Text()); ok {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Time < lines[j].Time })
	return &Sheet{lines: lines}, nil
}

// ParseString, Parse'ın string kısayolu.
func ParseString(s string) *Sheet {
	sheet, _ := Parse(strings.NewReader(s))
	return sheet
}

// FromLines, hazır bir satır listesinden Sheet oluşturur (sıralayarak).
func FromLines(lines []Line) *Sheet {
	cp := append([]Line(nil), lines...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Time < cp[j].Time })
	return &Sheet{lines: cp}
}

func parseLine(raw string) (Line, bool) {
	m := linePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Line{}, false
	}

	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return Line{}, false
	}
	seconds, err := strconv.Atoi(m[2])
	if err != nil || seconds >= 60 {
		return Line{}, false
	}

	t := float64(minutes*60 + seconds)
	if frac := m[3]; frac != "" {
		n, err := strconv.Atoi(frac)
		if err != nil {
			return Line{}, false
		}
		// "5" → 0.5, "50" → 0.50, "500" → 0.500
		div := 1.0
		for range len(frac) {
			div *= 10
		}
		t += float64(n) / div
	}

	return Line{Time: t, Text: strings.TrimSpace(m[4])}, true
}

// Len, satır sayısını döner.
func (s *Sheet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.lines)
}

// Lines, satırların bir kopyasını döner.
func (s *Sheet) Lines() []Line {
	if s == nil {
		return nil
	}
	return append([]Line(nil), s.lines...)
}

// Index, pos için aktif satırın index'ini döner: Time ≤ pos olan en büyük
// zaman damgası. İlk satırdan önceki pozisyonlar için -1.
//
// Her satırın aktif aralığı [Time, sonraki.Time) şeklindedir; tam sınırda
// sonraki satır kazanır. Son satır parça bitse de aktif kalır.
// Binary search kullanılır, seek sonrası da doğru sonuç verir.
func (s *Sheet) Index(pos float64) int {
	if s == nil {
		return -1
	}
	// ilk Time > pos olan satır
	i := sort.Search(len(s.lines), func(i int) bool { return s.lines[i].Time > pos })
	return i - 1
}

// Current, pos için aktif satırı döner.
func (s *Sheet) Current(pos float64) (Line, bool) {
	i := s.Index(pos)
	if i < 0 {
		return Line{}, false
	}
	return s.lines[i], true
}

// Upcoming, aktif satırdan sonraki en fazla n satırı döner (önizleme).
// Henüz aktif satır yoksa ilk n satır döner.
func (s *Sheet) Upcoming(pos float64, n int) []Line {
	if s == nil || n <= 0 {
		return nil
	}
	start := s.Index(pos) + 1
	end := min(start+n, len(s.lines))
	if start >= end {
		return nil
	}
	return append([]Line(nil), s.lines[start:end]...)
}
