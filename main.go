package main

import (
	"flag"
	"fmt"
	"log"
	"net"
)

// 定义版本号
const Version = "0.1.0"

func main() {
	// 启动日志
	SetupLogger()
	defer CloseLogger()

	showVersion := flag.Bool("version", false, "Show the version number")
	port := flag.String("port", "8890", "TCP port to listen on for DAP clients")
	backend := flag.String("backend", "", "Address of a running v8 debug service to attach to, e.g. 127.0.0.1:5858")
	file := flag.String("file", "", "Default entry script for launch requests that carry no program")
	flag.Parse()

	// 检查是否需要显示版本信息
	if *showVersion {
		fmt.Printf("Version: %s\n", Version)
		return
	}

	// 监听端口
	listener, err := net.Listen("tcp", ":"+*port)
	if err != nil {
		fmt.Printf("failed to listen at: %s\n", *port)
		return
	}
	defer listener.Close()
	fmt.Printf("started listening at: %s\n", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("Connection failed: %v\n", err)
			continue
		}
		// Handle multiple client connections concurrently
		go handleConnection(conn, *backend, *file)
	}
}
