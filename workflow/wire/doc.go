/*
Package wire 提供工作流检查点使用的中立序列化格式。

# 概述

所有需要跨进程持久化的值（执行器私有状态、队列中的消息、共享作用域变量）
都先转换为 Value：一个带类型标识的 JSON 容器。类型标识通过 Registry
映射回 Go 类型；解码时若类型未知，则保留为未解析的 PortableValue，
直到调用方以具体类型访问时才真正反序列化（延迟反序列化）。

# 核心类型

  - Value         - {type, data} 自描述容器
  - Registry      - 类型标识 <-> reflect.Type 双向映射
  - Marshaller    - Marshal / MarshalAs / Unmarshal / Decode
  - PortableValue - 声明类型 + 具体值或未解析载荷，一次解析后缓存
  - TypeMismatchError - 声明类型与请求类型不一致
*/
package wire
