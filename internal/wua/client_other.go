//go:build !windows

package wua

import "errors"

// ErrUnsupported is returned on platforms without the Windows Update Agent.
var ErrUnsupported = errors.New("wua: windows update agent is only available on windows")

// Client is a stub on non-Windows platforms.
type Client struct{}

// NewClient creates a stub client on non-Windows platforms.
func NewClient(_ bool) *Client { return &Client{} }

func (c *Client) Open() error { return ErrUnsupported }

func (c *Client) Close() {}

func (c *Client) Search(string) ([]Update, error) { return nil, ErrUnsupported }

func (c *Client) Download() (OperationResult, error) { return OperationResult{}, ErrUnsupported }

func (c *Client) Install() (OperationResult, error) { return OperationResult{}, ErrUnsupported }
