package main

// 引入平台初始化插件，触发各平台的 init() 完成注册
import (
	_ "github.com/ios-xr/iosxrv-x64-vbox/addone/setup/platforms/iosxe"
	_ "github.com/ios-xr/iosxrv-x64-vbox/addone/setup/platforms/iosxr"
)
