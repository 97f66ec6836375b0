// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

import "fmt"

// Adaptive Huffman streams, as written for wave files: a table byte selects
// the initial symbol weights, then LSB-first codes follow until the end
// symbol. Every node lives in one list sorted by falling weight; the two
// children of a node are neighbours in that list, and the tree is
// rebalanced as weights grow.

const (
	huffEnd     = 0x100 // end of stream
	huffNewByte = 0x101 // next 8 bits are a byte missing from the tree

	huffSymbols  = 0x102
	huffMaxNodes = 2*huffSymbols - 1

	// huffTrailing is the slack allowed after the end symbol for writers
	// that pad to a word.
	huffTrailing = 3
)

// huffWeights holds the initial weights for each table byte. A zero weight
// leaves the byte out of the tree until the stream inserts it.
//
// TODO: add the weight tables for types 1-3 and 6-8 from StormLib's
// huff.cpp; streams using them are reported as unsupported until then.
var huffWeights = [9][]byte{
	0: huffRepeat(0x0A, 256),
	4: {
		0xFF, 0xFB, 0x98, 0x9A, 0x84, 0x85, 0x63, 0x64, 0x3E, 0x3E, 0x22, 0x22, 0x13, 0x13, 0x18, 0x17,
	},
	5: {
		0xFF, 0xF1, 0x9D, 0x9E, 0x9A, 0x9B, 0x9A, 0x97, 0x93, 0x93, 0x8C, 0x8E, 0x86, 0x88, 0x80, 0x82,
		0x7C, 0x7C, 0x72, 0x73, 0x69, 0x6B, 0x5F, 0x60, 0x55, 0x56, 0x4A, 0x4B, 0x40, 0x41, 0x37, 0x37,
		0x2F, 0x2F, 0x27, 0x27, 0x21, 0x21, 0x1B, 0x1C, 0x17, 0x17, 0x13, 0x13, 0x10, 0x10, 0x0D, 0x0D,
		0x0B, 0x0B, 0x09, 0x09, 0x08, 0x08, 0x07, 0x07, 0x06, 0x05, 0x05, 0x04, 0x04, 0x04, 0x19, 0x18,
	},
}

func huffRepeat(w byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = w
	}
	return b
}

type huffNode struct {
	value  int // symbol of a leaf
	weight int
	pos    int // index in huffTree.list
	parent *huffNode
	child0 *huffNode // the lighter child; the other one sits just before it
}

type huffTree struct {
	list   []*huffNode
	leaves [huffSymbols]*huffNode
}

// newHuffTree builds the initial tree for a weight table.
func newHuffTree(weights []byte) *huffTree {
	t := &huffTree{list: make([]*huffNode, 0, huffMaxNodes)}
	for v, w := range weights {
		if w != 0 {
			t.leaves[v] = t.insert(&huffNode{value: v, weight: int(w)})
		}
	}
	t.leaves[huffEnd] = t.push(&huffNode{value: huffEnd, weight: 1})
	t.leaves[huffNewByte] = t.push(&huffNode{value: huffNewByte, weight: 1})

	// Pair nodes from the light end of the list upwards.
	for lo := len(t.list) - 1; lo > 0; {
		lower, upper := t.list[lo], t.list[lo-1]
		parent := &huffNode{value: -1, weight: lower.weight + upper.weight, child0: lower}
		lower.parent = parent
		upper.parent = parent
		t.insert(parent)
		lo = upper.pos - 1
	}
	return t
}

// insert places n after every node at least as heavy.
func (t *huffTree) insert(n *huffNode) *huffNode {
	p := len(t.list)
	for p > 0 && t.list[p-1].weight < n.weight {
		p--
	}
	t.list = append(t.list, nil)
	copy(t.list[p+1:], t.list[p:])
	t.list[p] = n
	for i := p; i < len(t.list); i++ {
		t.list[i].pos = i
	}
	return n
}

// push appends n at the light end of the list.
func (t *huffTree) push(n *huffNode) *huffNode {
	n.pos = len(t.list)
	t.list = append(t.list, n)
	return n
}

func (t *huffTree) root() *huffNode { return t.list[0] }

// child1 returns the heavier child of an inner node.
func (t *huffTree) child1(n *huffNode) *huffNode { return t.list[n.child0.pos-1] }

// increment adds one to the weight of n and its ancestors, swapping each
// with the first lighter node ahead of it to keep the list sorted.
func (t *huffTree) increment(n *huffNode) {
	for ; n != nil; n = n.parent {
		n.weight++

		p := n.pos
		for p > 0 && t.list[p-1].weight < n.weight {
			p--
		}
		if other := t.list[p]; other != n && other != n.parent && other.parent != nil {
			t.swap(n, other)
		}
	}
}

// swap exchanges two nodes in the list together with their places in the
// tree. b lies ahead of a.
func (t *huffTree) swap(a, b *huffNode) {
	pa, pb := a.parent, b.parent
	aLower := pa.child0 == a
	bLower := pb.child0 == b

	t.list[a.pos], t.list[b.pos] = b, a
	a.pos, b.pos = b.pos, a.pos

	if aLower {
		pa.child0 = b
	}
	if bLower {
		pb.child0 = a
	}
	a.parent, b.parent = pb, pa
}

// addLeaf splits the lightest leaf into itself and a new leaf for value.
func (t *huffTree) addLeaf(value int) (*huffNode, error) {
	if len(t.list)+2 > huffMaxNodes {
		return nil, fmt.Errorf("tree holds %d nodes", len(t.list))
	}
	tail := t.list[len(t.list)-1]
	if tail.child0 != nil {
		return nil, fmt.Errorf("lightest node is not a leaf")
	}
	upper := t.push(&huffNode{value: tail.value, weight: tail.weight, parent: tail})
	lower := t.push(&huffNode{value: value, parent: tail})

	t.leaves[tail.value] = upper
	t.leaves[value] = lower
	tail.value = -1
	tail.child0 = lower

	t.increment(lower)
	return lower, nil
}

// huffBits reads LSB-first bits.
type huffBits struct {
	in  []byte
	pos int
	buf uint32
	cnt uint
}

func (b *huffBits) bits(n uint) (int, bool) {
	for b.cnt < n {
		if b.pos >= len(b.in) {
			return 0, false
		}
		b.buf |= uint32(b.in[b.pos]) << b.cnt
		b.pos++
		b.cnt += 8
	}
	v := int(b.buf & (1<<n - 1))
	b.buf >>= n
	b.cnt -= n
	return v, true
}

func (t *huffTree) decode(b *huffBits) (*huffNode, bool) {
	n := t.root()
	for n.child0 != nil {
		bit, ok := b.bits(1)
		if !ok {
			return nil, false
		}
		if bit == 0 {
			n = n.child0
		} else {
			n = t.child1(n)
		}
	}
	return n, true
}

func huffUndecodable(format string, args ...any) error {
	return &Error{Codec: "huffman", Reason: fmt.Sprintf(format, args...)}
}

// DecompressHuffman decodes an adaptive Huffman stream of at most size
// bytes. The stream must close with its end symbol; one that does not was
// written with a table this package does not reproduce, and is reported
// as an *Error.
func DecompressHuffman(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		return nil, huffUndecodable("empty stream")
	}
	kind := int(data[0])
	if kind >= len(huffWeights) || huffWeights[kind] == nil {
		return nil, huffUndecodable("no weight table for type %d", kind)
	}

	t := newHuffTree(huffWeights[kind])
	// Type 0 starts flat and learns from every byte.
	adaptive := kind == 0
	in := &huffBits{in: data[1:]}
	out := make([]byte, 0, min(size, 8*len(data)))

	for {
		leaf, ok := t.decode(in)
		if !ok {
			return nil, huffUndecodable("stream ends without an end symbol after %d bytes", len(out))
		}
		if leaf.value == huffEnd {
			break
		}
		if len(out) == size {
			return nil, huffUndecodable("stream runs past %d bytes", size)
		}

		value := leaf.value
		if value == huffNewByte {
			v, ok := in.bits(8)
			if !ok {
				return nil, huffUndecodable("stream ends inside a new byte")
			}
			added, err := t.addLeaf(v)
			if err != nil {
				return nil, huffUndecodable("%v", err)
			}
			if !adaptive {
				t.increment(added)
			}
			value = v
		}

		out = append(out, byte(value))
		if adaptive {
			t.increment(t.leaves[value])
		}
	}

	if rest := len(in.in) - in.pos; rest > huffTrailing {
		return nil, huffUndecodable("%d bytes follow the end symbol", rest)
	}
	return out, nil
}
