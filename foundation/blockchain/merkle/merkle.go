// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.
// This code has been cleaned up, refactored, and turned into generics.

// Package merkle provides an implementation of a merkle tree that supports
// pruning of leaves while keeping the root verifiable.
package merkle

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hashable represents the behavior concrete data must exhibit to be used in
// the merkle tree.
type Hashable[T any] interface {
	Hash() chainhash.Hash
	Equals(other T) bool
}

// HashFunc combines the concatenated hashes of two children into the hash
// of their parent.
type HashFunc func(data []byte) chainhash.Hash

// OuterNode is a retained interior hash that stands in for a fully pruned
// subtree. Level 0 is the leaf level.
type OuterNode struct {
	Level int            `json:"level"`
	Index int            `json:"index"`
	Hash  chainhash.Hash `json:"hash"`
}

// Leaf is a value together with its position among the tree's leaves.
type Leaf[T any] struct {
	Index int
	Value T
}

// =============================================================================

// Tree represents a merkle tree that uses data of some type T that exhibits the
// behavior defined by the Hashable constraint.
type Tree[T Hashable[T]] struct {
	Root         *Node[T]
	Leafs        []*Node[T]
	MerkleRoot   chainhash.Hash
	leafCount    int
	hashStrategy HashFunc
}

// WithHashStrategy is used to change the default hash strategy of using
// double sha256 when constructing a new tree.
func WithHashStrategy[T Hashable[T]](hashStrategy HashFunc) func(t *Tree[T]) {
	return func(t *Tree[T]) {
		t.hashStrategy = hashStrategy
	}
}

// NewTree constructs a new merkle tree that uses data of some type T that
// exhibits the behavior defined by the Hashable interface.
func NewTree[T Hashable[T]](values []T, options ...func(t *Tree[T])) (*Tree[T], error) {
	t := newTree(options...)

	if err := t.Generate(values); err != nil {
		return nil, err
	}

	return t, nil
}

// Reconstruct rebuilds a possibly pruned tree from its leaf count, the
// leaves that remain and the outer nodes that stand in for pruned subtrees.
// Every position must be covered by exactly one leaf or outer node.
func Reconstruct[T Hashable[T]](leafCount int, leaves []Leaf[T], outer []OuterNode, options ...func(t *Tree[T])) (*Tree[T], error) {
	t := newTree(options...)

	if err := t.build(leafCount, leaves, outer); err != nil {
		return nil, err
	}

	return t, nil
}

func newTree[T Hashable[T]](options ...func(t *Tree[T])) *Tree[T] {
	t := Tree[T]{
		hashStrategy: chainhash.DoubleHashH,
	}

	for _, option := range options {
		option(&t)
	}

	return &t
}

// Generate constructs the leafs and nodes of the tree from the specified
// data. If the tree has been generated previously, the tree is re-generated
// from scratch.
func (t *Tree[T]) Generate(values []T) error {
	leaves := make([]Leaf[T], len(values))
	for i, value := range values {
		leaves[i] = Leaf[T]{Index: i, Value: value}
	}

	return t.build(len(values), leaves, nil)
}

// Rebuild is a helper function that will rebuild the tree reusing only the
// leaves and outer nodes it currently holds.
func (t *Tree[T]) Rebuild() error {
	return t.build(t.leafCount, t.Leaves(), t.Outer())
}

// LeafCount returns the number of leaves the tree had before any pruning.
func (t *Tree[T]) LeafCount() int {
	return t.leafCount
}

// Prune removes every leaf the function selects. Subtrees whose leaves are
// all removed collapse into a single outer node. The root hash does not
// change. It returns the number of leaves removed.
func (t *Tree[T]) Prune(remove func(value T) bool) int {
	var removed int
	for _, leaf := range t.Leafs {
		if remove(leaf.Value) {
			leaf.leaf = false
			leaf.outer = true
			var zero T
			leaf.Value = zero
			removed++
		}
	}

	if removed == 0 {
		return 0
	}

	t.Root.collapse()

	var leafs []*Node[T]
	for _, leaf := range t.Leafs {
		if leaf.leaf {
			leafs = append(leafs, leaf)
		}
	}
	t.Leafs = leafs

	return removed
}

// Leaves returns the remaining leaves with their original positions.
func (t *Tree[T]) Leaves() []Leaf[T] {
	leaves := make([]Leaf[T], len(t.Leafs))
	for i, node := range t.Leafs {
		leaves[i] = Leaf[T]{Index: node.index, Value: node.Value}
	}

	return leaves
}

// Outer returns the outer nodes of the tree ordered by level and index.
func (t *Tree[T]) Outer() []OuterNode {
	var outer []OuterNode
	t.Root.walk(func(n *Node[T]) {
		if n.outer {
			outer = append(outer, OuterNode{Level: n.level, Index: n.index, Hash: n.Hash})
		}
	})

	sort.Slice(outer, func(i, j int) bool {
		if outer[i].Level != outer[j].Level {
			return outer[i].Level < outer[j].Level
		}
		return outer[i].Index < outer[j].Index
	})

	return outer
}

// Proof returns the set of hashes and the order of concatenating those
// hashes for proving a value is in the tree. An order of 0 means the proof
// hash is concatenated first, 1 means it is concatenated second.
//
//	h := hash(value)
//	for i := range proof {
//	    if order[i] == 0 { h = hashStrategy(proof[i] || h) }
//	    else             { h = hashStrategy(h || proof[i]) }
//	}
//
// The calculated h should match the merkle root.
func (t *Tree[T]) Proof(data T) ([]chainhash.Hash, []int64, error) {
	for _, node := range t.Leafs {
		if !node.Value.Equals(data) {
			continue
		}

		var merkleProof []chainhash.Hash
		var order []int64
		nodeParent := node.Parent

		for nodeParent != nil {
			if nodeParent.Left == node {
				merkleProof = append(merkleProof, nodeParent.Right.Hash)
				order = append(order, 1) // right leaf, concat second.
			} else {
				merkleProof = append(merkleProof, nodeParent.Left.Hash)
				order = append(order, 0) // left leaf, concat first.
			}
			node = nodeParent
			nodeParent = nodeParent.Parent
		}

		return merkleProof, order, nil
	}

	return nil, nil, errors.New("unable to find data in tree")
}

// VerifyProof recomputes a root from a value's hash and a proof produced
// by Proof.
func VerifyProof(hash chainhash.Hash, proof []chainhash.Hash, order []int64, hashStrategy HashFunc) (chainhash.Hash, error) {
	if len(proof) != len(order) {
		return chainhash.Hash{}, fmt.Errorf("proof has %d hashes but %d orders", len(proof), len(order))
	}

	if hashStrategy == nil {
		hashStrategy = chainhash.DoubleHashH
	}

	for i := range proof {
		if order[i] == 0 {
			hash = combine(hashStrategy, proof[i], hash)
			continue
		}
		hash = combine(hashStrategy, hash, proof[i])
	}

	return hash, nil
}

// Verify validates the hashes at each level of the tree and returns an
// error if the resulting hash does not match the root hash.
func (t *Tree[T]) Verify() error {
	calculatedMerkleRoot := t.Root.verify()

	if t.MerkleRoot != calculatedMerkleRoot {
		return errors.New("root hash invalid")
	}

	return nil
}

// VerifyData indicates whether a given piece of data is in the tree and if the
// hashes are valid for that data.
func (t *Tree[T]) VerifyData(data T) error {
	for _, node := range t.Leafs {
		if !node.Value.Equals(data) {
			continue
		}

		if node.Hash != data.Hash() {
			return errors.New("leaf hash does not match data")
		}

		currentParent := node.Parent
		for currentParent != nil {
			if currentParent.CalculateHash() != currentParent.Hash {
				return errors.New("merkle root is not equivalent to the merkle root calculated on the critical path")
			}

			currentParent = currentParent.Parent
		}

		return nil
	}

	return errors.New("merkle root is not equivalent to the merkle root calculated on the critical path")
}

// Values returns the values held by the remaining leaves in order.
func (t *Tree[T]) Values() []T {
	values := make([]T, len(t.Leafs))
	for i, leaf := range t.Leafs {
		values[i] = leaf.Value
	}

	return values
}

// RootHex returns the merkle root in display byte order.
func (t *Tree[T]) RootHex() string {
	return t.MerkleRoot.String()
}

// String returns a string representation of the tree. Only leaf nodes are
// included in the output.
func (t *Tree[T]) String() string {
	s := ""

	for _, l := range t.Leafs {
		s += fmt.Sprint(l)
		s += "\n"
	}

	return s
}

// MarshalText implements the TextMarshaler interface and produces a panic
// if anyone tries to marshal the Merkle tree. I don't want this to happen.
// Use the Values function to return a slice that can be marshaled.
func (t *Tree[T]) MarshalText() (text []byte, err error) {
	panic("do not marshal the merkle tree, use Values")
}

// =============================================================================

// build lays the tree out level by level. Level 0 holds leafCount nodes
// and every level above holds half of the one below rounded up. A node
// without a right sibling is paired with itself.
func (t *Tree[T]) build(leafCount int, leaves []Leaf[T], outer []OuterNode) error {
	if leafCount <= 0 {
		return errors.New("cannot construct tree with no content")
	}

	widths := []int{leafCount}
	for widths[len(widths)-1] > 1 {
		w := widths[len(widths)-1]
		widths = append(widths, (w+1)/2)
	}

	leafAt := make(map[int]T, len(leaves))
	for _, leaf := range leaves {
		if leaf.Index < 0 || leaf.Index >= leafCount {
			return fmt.Errorf("leaf index %d out of range, leaf count %d", leaf.Index, leafCount)
		}
		if _, exists := leafAt[leaf.Index]; exists {
			return fmt.Errorf("leaf index %d supplied twice", leaf.Index)
		}
		leafAt[leaf.Index] = leaf.Value
	}

	type position struct{ level, index int }
	outerAt := make(map[position]chainhash.Hash, len(outer))
	for _, on := range outer {
		if on.Level < 0 || on.Level >= len(widths) || on.Index < 0 || on.Index >= widths[on.Level] {
			return fmt.Errorf("outer node level %d index %d out of range", on.Level, on.Index)
		}
		outerAt[position{on.Level, on.Index}] = on.Hash
	}

	var used int
	var leafs []*Node[T]

	var buildNode func(level, index int) (*Node[T], error)
	buildNode = func(level, index int) (*Node[T], error) {
		n := Node[T]{
			Tree:  t,
			level: level,
			index: index,
		}

		if hash, exists := outerAt[position{level, index}]; exists {
			n.Hash = hash
			n.outer = true
			return &n, nil
		}

		if level == 0 {
			value, exists := leafAt[index]
			if !exists {
				return nil, fmt.Errorf("leaf %d is neither present nor covered by an outer node", index)
			}
			used++

			n.Value = value
			n.Hash = value.Hash()
			n.leaf = true
			leafs = append(leafs, &n)
			return &n, nil
		}

		left, err := buildNode(level-1, 2*index)
		if err != nil {
			return nil, err
		}
		left.Parent = &n
		n.Left = left

		switch {
		case 2*index+1 < widths[level-1]:
			right, err := buildNode(level-1, 2*index+1)
			if err != nil {
				return nil, err
			}
			right.Parent = &n
			n.Right = right

		default:
			n.Right = left
			n.dup = true
		}

		n.Hash = n.CalculateHash()
		return &n, nil
	}

	root, err := buildNode(len(widths)-1, 0)
	if err != nil {
		return err
	}

	if used != len(leafAt) {
		return fmt.Errorf("%d leaves are covered by outer nodes", len(leafAt)-used)
	}

	t.Root = root
	t.Leafs = leafs
	t.MerkleRoot = root.Hash
	t.leafCount = leafCount

	return nil
}

// =============================================================================

// Node represents a node, root, or leaf in the tree. It stores pointers to its
// immediate relationships, a hash, the data if it is a leaf, and other metadata.
// An outer node keeps only its hash.
type Node[T Hashable[T]] struct {
	Tree   *Tree[T]
	Parent *Node[T]
	Left   *Node[T]
	Right  *Node[T]
	Hash   chainhash.Hash
	Value  T
	level  int
	index  int
	leaf   bool
	outer  bool
	dup    bool
}

// verify walks down the tree until hitting a leaf or outer node, calculating
// the hash at each level and returning the resulting hash of the node.
func (n *Node[T]) verify() chainhash.Hash {
	switch {
	case n.leaf:
		return n.Value.Hash()
	case n.outer:
		return n.Hash
	}

	left := n.Left.verify()
	right := left
	if !n.dup {
		right = n.Right.verify()
	}

	return combine(n.Tree.hashStrategy, left, right)
}

// CalculateHash is a helper function that calculates the hash of the node.
func (n *Node[T]) CalculateHash() chainhash.Hash {
	switch {
	case n.leaf:
		return n.Value.Hash()
	case n.outer:
		return n.Hash
	}

	return combine(n.Tree.hashStrategy, n.Left.Hash, n.Right.Hash)
}

// collapse turns every subtree without remaining leaves into an outer node
// and reports whether n itself is now an outer node.
func (n *Node[T]) collapse() bool {
	switch {
	case n.leaf:
		return false
	case n.outer:
		return true
	}

	left := n.Left.collapse()
	right := left
	if !n.dup {
		right = n.Right.collapse()
	}

	if left && right {
		n.Left = nil
		n.Right = nil
		n.dup = false
		n.outer = true
		return true
	}

	return false
}

// walk visits every node under n once.
func (n *Node[T]) walk(fn func(n *Node[T])) {
	if n == nil {
		return
	}

	fn(n)
	n.Left.walk(fn)
	if !n.dup {
		n.Right.walk(fn)
	}
}

// String returns a string representation of the node.
func (n *Node[T]) String() string {
	return fmt.Sprintf("%t %t %d:%d %v %v", n.leaf, n.dup, n.level, n.index, n.Hash, n.Value)
}

// =============================================================================

func combine(hashStrategy HashFunc, left chainhash.Hash, right chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])

	return hashStrategy(buf[:])
}
