// ragctl 运维命令行：入库、检索、问答与审计查询，直接使用服务端同一套配置。
package main

import (
	"os"
)

func main() {
	root, c := newRootCmd()
	root.SetOut(os.Stdout)
	if err := c.execute(root); err != nil {
		os.Exit(1)
	}
}
