/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package shapes

import (
	"github.com/gomlx/exceptions"
)

// PermutationToFront returns the permutation of axes that moves the given axis to
// position 0, leaving every other axis in place. It is a single transposition of
// positions 0 and axis, hence it is its own inverse: applying it twice restores
// the original axes order.
//
// Per-channel (and per-group) operations use this so their inner loops can always
// iterate over axis 0, whatever axis the caller selected.
//
// It panics if axis is out of range for the given rank.
func PermutationToFront(rank, axis int) []int {
	if axis < 0 || axis >= rank {
		exceptions.Panicf("shapes.PermutationToFront(rank=%d, axis=%d): axis out of range", rank, axis)
	}
	permutation := make([]int, rank)
	for ii := range permutation {
		permutation[ii] = ii
	}
	permutation[0], permutation[axis] = axis, 0
	return permutation
}

// Permute returns a copy of the shape with its dimensions re-ordered according to
// the given permutation: output axis ii takes the dimension of input axis
// permutation[ii].
//
// It panics if permutation is not a valid permutation of the shape's axes.
func (s Shape) Permute(permutation []int) Shape {
	if len(permutation) != s.Rank() {
		exceptions.Panicf("Shape.Permute(%v): permutation has %d elements, shape %s has rank %d",
			permutation, len(permutation), s, s.Rank())
	}
	seen := make([]bool, s.Rank())
	newShape := Shape{DType: s.DType, Dimensions: make([]int, s.Rank())}
	for ii, fromAxis := range permutation {
		if fromAxis < 0 || fromAxis >= s.Rank() || seen[fromAxis] {
			exceptions.Panicf("Shape.Permute(%v): not a valid permutation of %d axes", permutation, s.Rank())
		}
		seen[fromAxis] = true
		newShape.Dimensions[ii] = s.Dimensions[fromAxis]
	}
	return newShape
}
