//go:build !linux

package main

import "errors"

func newHardwarePlatform(string) (*hardwarePlatform, error) {
	return nil, errors.New("register access requires linux; run with --mock")
}
