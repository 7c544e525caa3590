// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package nmea

import "strconv"

// splitChecksum validates a single NMEA line (leading "$" included) against
// spec.md §4.B: it must contain exactly one "*", the two characters after
// it must be a hex byte, and the XOR of every byte between "$" and "*"
// (exclusive on both ends) must equal that byte. On success it returns the
// payload between "$" and "*" (still containing the sentence header and
// comma-separated fields).
func splitChecksum(line string) (payload string, ok bool) {
	star := -1
	for i := 0; i < len(line); i++ {
		if line[i] == '*' {
			if star != -1 {
				return "", false // more than one '*'
			}
			star = i
		}
	}
	if star == -1 || star+3 > len(line) {
		return "", false
	}
	if len(line) > 0 && line[0] != '$' {
		return "", false
	}

	want, err := strconv.ParseUint(line[star+1:star+3], 16, 8)
	if err != nil {
		return "", false
	}

	body := line[1:star]
	var got byte
	for i := 0; i < len(body); i++ {
		got ^= body[i]
	}
	if got != byte(want) {
		return "", false
	}
	return body, true
}
