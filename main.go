package main

import "github.com/camden-git/attendancebackend/cmd"

func main() {
	cmd.Execute()
}
