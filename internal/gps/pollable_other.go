//go:build !unix

package gps

import "io"

func pollable(dev io.ReadCloser, _ string) (io.ReadCloser, error) { return dev, nil }
