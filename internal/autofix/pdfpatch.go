package autofix

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
)

// PDF repairs are written as incremental updates: modified and new objects
// are appended to the buffer together with a cross-reference section whose
// trailer points back at the previous one. The original bytes are never
// rewritten in place, which keeps the update cheap and auditable.

var (
	objRe       = regexp.MustCompile(`(?s)(\d+)\s+0\s+obj\b(.*?)endobj`)
	startxrefRe = regexp.MustCompile(`startxref\s+(\d+)`)
	rootRe      = regexp.MustCompile(`/Root\s+(\d+)\s+\d+\s+R`)
)

type patchObject struct {
	num  int
	body []byte
}

// patch accumulates object rewrites against one source buffer.
type patch struct {
	orig     []byte
	rootNum  int
	prevXref int
	nextNum  int
	replaced map[int][]byte
	appended []patchObject
}

func newPatch(data []byte) (*patch, error) {
	sx := startxrefRe.FindAllSubmatch(data, -1)
	if len(sx) == 0 {
		return nil, fmt.Errorf("no startxref marker")
	}
	prev, err := strconv.Atoi(string(sx[len(sx)-1][1]))
	if err != nil {
		return nil, fmt.Errorf("parse startxref: %w", err)
	}

	rm := rootRe.FindSubmatch(data)
	if rm == nil {
		return nil, fmt.Errorf("no /Root reference")
	}
	rootNum, _ := strconv.Atoi(string(rm[1]))

	maxNum := 0
	for _, m := range objRe.FindAllSubmatch(data, -1) {
		n, _ := strconv.Atoi(string(m[1]))
		if n > maxNum {
			maxNum = n
		}
	}
	if maxNum == 0 {
		return nil, fmt.Errorf("no indirect objects")
	}

	return &patch{
		orig:     data,
		rootNum:  rootNum,
		prevXref: prev,
		nextNum:  maxNum + 1,
		replaced: make(map[int][]byte),
	}, nil
}

// objects returns the current body of every object in document order. A
// number that appears more than once (a prior incremental update) resolves
// to its latest definition.
func (p *patch) objects() []patchObject {
	var order []int
	latest := make(map[int][]byte)
	for _, m := range objRe.FindAllSubmatch(p.orig, -1) {
		num, _ := strconv.Atoi(string(m[1]))
		if _, ok := latest[num]; !ok {
			order = append(order, num)
		}
		latest[num] = bytes.TrimSpace(m[2])
	}
	out := make([]patchObject, 0, len(order))
	for _, num := range order {
		body := latest[num]
		if repl, ok := p.replaced[num]; ok {
			body = repl
		}
		out = append(out, patchObject{num: num, body: body})
	}
	return out
}

// object returns the current body of object num, honoring pending
// replacements.
func (p *patch) object(num int) ([]byte, bool) {
	for _, o := range p.objects() {
		if o.num == num {
			return o.body, true
		}
	}
	return nil, false
}

// find returns the first object whose body matches re.
func (p *patch) find(re *regexp.Regexp) (int, []byte, bool) {
	for _, o := range p.objects() {
		if re.Match(o.body) {
			return o.num, o.body, true
		}
	}
	return 0, nil, false
}

// findAll returns every object whose body matches re, in document order.
func (p *patch) findAll(re *regexp.Regexp) []patchObject {
	var out []patchObject
	for _, o := range p.objects() {
		if re.Match(o.body) {
			out = append(out, o)
		}
	}
	return out
}

// replace registers a new body for an existing object.
func (p *patch) replace(num int, body []byte) {
	p.replaced[num] = body
}

// add registers a brand new object and returns its number.
func (p *patch) add(body []byte) int {
	num := p.nextNum
	p.nextNum++
	p.appended = append(p.appended, patchObject{num: num, body: body})
	return num
}

// dirty reports whether the patch carries any change.
func (p *patch) dirty() bool {
	return len(p.replaced) > 0 || len(p.appended) > 0
}

// bytes renders the incremental update.
func (p *patch) bytes() []byte {
	if !p.dirty() {
		return p.orig
	}

	var objs []patchObject
	for num, body := range p.replaced {
		objs = append(objs, patchObject{num: num, body: body})
	}
	objs = append(objs, p.appended...)
	// Stable order keeps output deterministic for identical inputs.
	sortObjects(objs)

	out := bytes.NewBuffer(nil)
	out.Write(p.orig)
	if p.orig[len(p.orig)-1] != '\n' {
		out.WriteByte('\n')
	}

	offsets := make(map[int]int, len(objs))
	for _, o := range objs {
		offsets[o.num] = out.Len()
		fmt.Fprintf(out, "%d 0 obj\n", o.num)
		out.Write(bytes.TrimSpace(o.body))
		out.WriteString("\nendobj\n")
	}

	xrefOffset := out.Len()
	out.WriteString("xref\n")
	for _, o := range objs {
		fmt.Fprintf(out, "%d 1\n%010d 00000 n \n", o.num, offsets[o.num])
	}
	fmt.Fprintf(out, "trailer\n<< /Size %d /Root %d 0 R /Prev %d >>\n", p.nextNum, p.rootNum, p.prevXref)
	fmt.Fprintf(out, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return out.Bytes()
}

func sortObjects(objs []patchObject) {
	for i := 1; i < len(objs); i++ {
		for j := i; j > 0 && objs[j-1].num > objs[j].num; j-- {
			objs[j-1], objs[j] = objs[j], objs[j-1]
		}
	}
}

// setDictEntry inserts key/value before the dictionary's closing delimiter
// when the key is absent. Returns the body unchanged if the key exists.
func setDictEntry(body []byte, key string, value string) ([]byte, bool) {
	if bytes.Contains(body, []byte(key)) {
		return body, false
	}
	idx := bytes.LastIndex(body, []byte(">>"))
	if idx < 0 {
		return body, false
	}
	out := bytes.NewBuffer(nil)
	out.Write(body[:idx])
	fmt.Fprintf(out, "%s %s ", key, value)
	out.Write(body[idx:])
	return out.Bytes(), true
}
