// Package tcp implements the TCP socket transport of the dBucket RPC system. It
// provides concrete implementations of the base package's connector interfaces.
//
// This package builds on the base package's transport functionality, inheriting
// its connection pooling, buffer reuse and request routing. See the base package
// documentation for the frame format.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Both sides apply the TCPConf and SocketConf options of common.TransportConfig
// to every connection. The server buffer size defaults to 512 KB.
package tcp
