package testdevice

import "net"

// newListener 提前绑定端口，让Start返回时地址即可连接
func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
