// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reconcile

import (
	"reflect"
	"testing"
)

func TestDiff(t *testing.T) {
	cases := []struct {
		previous, now   []int
		entered, exited []int
	}{
		{nil, nil, []int{}, []int{}},
		{nil, []int{1, 2, 3}, []int{1, 2, 3}, []int{}},
		{[]int{1, 2, 3}, nil, []int{}, []int{1, 2, 3}},
		{[]int{1, 2, 3}, []int{1, 2, 3}, []int{}, []int{}},
		{[]int{1, 2, 3}, []int{2, 3, 4}, []int{4}, []int{1}},
		{[]int{1, 3, 5}, []int{2, 4, 6}, []int{2, 4, 6}, []int{1, 3, 5}},
	}
	for _, c := range cases {
		entered, exited := Diff(c.previous, c.now)
		if !reflect.DeepEqual(entered, c.entered) {
			t.Errorf("Diff(%v, %v) entered = %v, want %v", c.previous, c.now, entered, c.entered)
		}
		if !reflect.DeepEqual(exited, c.exited) {
			t.Errorf("Diff(%v, %v) exited = %v, want %v", c.previous, c.now, exited, c.exited)
		}
	}
}
