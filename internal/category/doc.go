// Package category 负责请求分类：把 GET 请求的 URL 映射到唯一的内容分类，
// 并给出每个分类绑定的缓存策略与缓存名。
//
// 分类规则按固定优先级求值，第一条命中即返回；分类器是纯函数，
// 只依赖启动时构建的 config.Runtime。
package category
