/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
//go:build nodebug

package debug

const Enabled = false

func Assert(cond bool, msg ...interface{})             {}
func AssertNoErr(err error)                             {}
func Assertf(cond bool, format string, args ...interface{}) {}
