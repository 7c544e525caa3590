// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package record

// Float and Int box a value into the pointer form Record's optional fields
// use, so decoders don't need a local variable just to take its address.
func Float(v float64) *float64 { return &v }
func Int(v int) *int           { return &v }
