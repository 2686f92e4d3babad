/*
包 browser 基于 chromedp 提供受控的 Headless Chrome 能力。

# 概述

browser 封装了登录自动化所需的最小浏览器操作面：导航、选择器
等待、点击、输入、文本提取、iframe 切换与截图。所有操作都带
独立超时，选择器等待内置指数退避重试。

# 核心类型

  - Engine：浏览器引擎，持有 chromedp ExecAllocator 与并发页面
    上限（semaphore），每个会话从这里分配 Page
  - Page：单个浏览器标签页，提供原子操作；SwitchFrame 之后的
    查询在目标 iframe 的 content document 内执行
  - Config：启动参数（headless、视口、UA、代理、超时与重试策略）

# 反检测

Engine 启动时注入反自动化侦测配置：禁用 AutomationControlled
blink 特性、移除 enable-automation 开关，并在每个新文档创建时
执行 evasion 脚本（navigator.webdriver 屏蔽、plugins / languages
伪装、chrome runtime 填充）。
*/
package browser
