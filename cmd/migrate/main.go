package main

import (
	"os"

	"supportdesk/cmd/cli"
)

// 独立迁移二进制，等价于 `supportdesk migrate`
func main() {
	os.Args = append([]string{os.Args[0], "migrate"}, os.Args[1:]...)
	cli.Execute()
}
