// knowledgehub 是知识库问答服务的入口。
//
// 子命令:
//
//	knowledgehub serve                       启动服务
//	knowledgehub serve --config config.yaml  指定配置文件
//	knowledgehub version                     显示版本信息
//	knowledgehub health                      对运行中的服务做健康检查
package main
