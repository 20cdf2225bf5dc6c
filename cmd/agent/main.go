// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command agent attaches to a running target program, samples its
// hardware performance counters on overflow, and streams samples to a
// co-located collector over UNIX-domain sockets.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/aclements/perf-agent/internal/agent"
	"github.com/aclements/perf-agent/internal/procfind"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("agent: ")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: agent threshold label command\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 3 {
		flag.Usage()
		os.Exit(1)
	}

	threshold, err := strconv.ParseUint(flag.Arg(0), 10, 64)
	if err != nil {
		log.Fatalf("invalid threshold %q: %v", flag.Arg(0), err)
	}
	label := flag.Arg(1)
	command := flag.Arg(2)

	a := agent.New(agent.Config{
		Threshold: threshold,
		Label:     label,
		Command:   command,
	})

	if err := a.Run(procfind.ProcLister{}); err != nil {
		log.Fatal(err)
	}
}
