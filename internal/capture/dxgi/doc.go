// Package dxgi implements capture.Graphics on top of DXGI Desktop Duplication
// and Direct3D 11. It calls the COM vtables directly, without cgo, and is only
// built on Windows.
package dxgi
